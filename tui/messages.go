package tui

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ BaseURL string }

// MsgTokensFound signals that a stored session was found.
type MsgTokensFound struct{ Source string }

// MsgTokensNotFound signals that no tokens were stored.
type MsgTokensNotFound struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgLoggingIn signals that a login request is in progress.
type MsgLoggingIn struct{ Username string }

// MsgLoginOK signals a successful login.
type MsgLoginOK struct{ Name string }

// MsgVerifying signals that the session is being checked against /auth/me.
type MsgVerifying struct{}

// MsgVerifyOK signals that the session was verified.
type MsgVerifyOK struct{ Name string }

// MsgVerifyFailed signals that session verification failed.
type MsgVerifyFailed struct{ Err error }

// MsgAccessTokenRejected signals that the access token was rejected (401).
type MsgAccessTokenRejected struct{}

// MsgTokenRefreshedRetrying signals that the token was refreshed and a retry is starting.
type MsgTokenRefreshedRetrying struct{}

// MsgSessionExpired signals that the session could not be renewed.
type MsgSessionExpired struct{}

// MsgNavigated signals a navigation, e.g. to the login page.
type MsgNavigated struct{ Path string }

// MsgLoadingDashboard signals that the dashboard collections are loading.
type MsgLoadingDashboard struct{}

// MsgDashboardLoaded carries the collection totals.
type MsgDashboardLoaded struct {
	Users    int
	Products int
	Orders   int
}

// MsgDone signals successful completion of the session.
type MsgDone struct{ Summary Summary }

// MsgFatal signals a fatal error that should terminate the session.
type MsgFatal struct{ Err error }
