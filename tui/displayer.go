package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Summary is shown once the session is established and the dashboard loaded.
type Summary struct {
	User      string
	Preview   string
	ExpiresIn time.Duration
	Locale    string
	Users     int
	Products  int
	Orders    int
}

// Displayer abstracts all output of a dashboard session. It also receives
// the refresh coordinator's and the API client's events.
type Displayer interface {
	Banner(baseURL string)
	TokensFound(source string)
	TokensNotFound()
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	LoggingIn(username string)
	LoginOK(name string)
	Verifying()
	VerifyOK(name string)
	VerifyFailed(err error)
	AccessTokenRejected()
	TokenRefreshedRetrying()
	SessionExpired()
	Navigated(path string)
	LoadingDashboard()
	DashboardLoaded(users, products, orders int)
	Done(s Summary)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(baseURL string) {
	fmt.Fprintln(p.w, "=== Dashboard Session ===")
	fmt.Fprintf(p.w, "API: %s\n", baseURL)
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) TokensFound(source string) {
	fmt.Fprintf(p.w, "Found existing tokens in %s\n", source)
}

func (p *PlainDisplayer) TokensNotFound() {
	fmt.Fprintln(p.w, "No existing tokens found")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) LoggingIn(username string) {
	fmt.Fprintf(p.w, "Logging in as %s...\n", username)
}

func (p *PlainDisplayer) LoginOK(name string) {
	fmt.Fprintf(p.w, "Logged in as %s\n", name)
}

func (p *PlainDisplayer) Verifying() {
	fmt.Fprintln(p.w, "\nVerifying session...")
}

func (p *PlainDisplayer) VerifyOK(name string) {
	fmt.Fprintf(p.w, "Session belongs to %s\n", name)
}

func (p *PlainDisplayer) VerifyFailed(err error) {
	fmt.Fprintf(p.w, "Session verification failed: %v\n", err)
}

func (p *PlainDisplayer) AccessTokenRejected() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) TokenRefreshedRetrying() {
	fmt.Fprintln(p.w, "Token refreshed, retrying API call...")
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "Session expired, tokens cleared")
}

func (p *PlainDisplayer) Navigated(path string) {
	fmt.Fprintf(p.w, "-> %s\n", path)
}

func (p *PlainDisplayer) LoadingDashboard() {
	fmt.Fprintln(p.w, "Loading dashboard...")
}

func (p *PlainDisplayer) DashboardLoaded(users, products, orders int) {
	fmt.Fprintf(p.w, "Dashboard loaded: %d users, %d products, %d orders\n", users, products, orders)
}

func (p *PlainDisplayer) Done(s Summary) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "User: %s\n", s.User)
	fmt.Fprintf(p.w, "Access Token: %s...\n", s.Preview)
	if s.ExpiresIn > 0 {
		fmt.Fprintf(p.w, "Expires In: %s\n", s.ExpiresIn.Round(time.Second))
	}
	fmt.Fprintf(p.w, "Locale: %s\n", s.Locale)
	fmt.Fprintf(p.w, "Users: %d  Products: %d  Orders: %d\n", s.Users, s.Products, s.Orders)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)             {}
func (NoopDisplayer) TokensFound(_ string)        {}
func (NoopDisplayer) TokensNotFound()             {}
func (NoopDisplayer) Refreshing()                 {}
func (NoopDisplayer) RefreshOK()                  {}
func (NoopDisplayer) RefreshFailed(_ error)       {}
func (NoopDisplayer) LoggingIn(_ string)          {}
func (NoopDisplayer) LoginOK(_ string)            {}
func (NoopDisplayer) Verifying()                  {}
func (NoopDisplayer) VerifyOK(_ string)           {}
func (NoopDisplayer) VerifyFailed(_ error)        {}
func (NoopDisplayer) AccessTokenRejected()        {}
func (NoopDisplayer) TokenRefreshedRetrying()     {}
func (NoopDisplayer) SessionExpired()             {}
func (NoopDisplayer) Navigated(_ string)          {}
func (NoopDisplayer) LoadingDashboard()           {}
func (NoopDisplayer) DashboardLoaded(_, _, _ int) {}
func (NoopDisplayer) Done(_ Summary)              {}
func (NoopDisplayer) Fatal(_ error)               {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(baseURL string) {
	t.p.Send(MsgBanner{BaseURL: baseURL})
}

func (t *ProgramDisplayer) TokensFound(source string) {
	t.p.Send(MsgTokensFound{Source: source})
}

func (t *ProgramDisplayer) TokensNotFound() {
	t.p.Send(MsgTokensNotFound{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) LoggingIn(username string) {
	t.p.Send(MsgLoggingIn{Username: username})
}

func (t *ProgramDisplayer) LoginOK(name string) {
	t.p.Send(MsgLoginOK{Name: name})
}

func (t *ProgramDisplayer) Verifying() {
	t.p.Send(MsgVerifying{})
}

func (t *ProgramDisplayer) VerifyOK(name string) {
	t.p.Send(MsgVerifyOK{Name: name})
}

func (t *ProgramDisplayer) VerifyFailed(err error) {
	t.p.Send(MsgVerifyFailed{Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected() {
	t.p.Send(MsgAccessTokenRejected{})
}

func (t *ProgramDisplayer) TokenRefreshedRetrying() {
	t.p.Send(MsgTokenRefreshedRetrying{})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) Navigated(path string) {
	t.p.Send(MsgNavigated{Path: path})
}

func (t *ProgramDisplayer) LoadingDashboard() {
	t.p.Send(MsgLoadingDashboard{})
}

func (t *ProgramDisplayer) DashboardLoaded(users, products, orders int) {
	t.p.Send(MsgDashboardLoaded{Users: users, Products: products, Orders: orders})
}

func (t *ProgramDisplayer) Done(s Summary) {
	t.p.Send(MsgDone{Summary: s})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
