package mockapi

import (
	"fmt"
	"strings"
)

func seed() map[string][]map[string]any {
	users := make([]map[string]any, 0, 12)
	names := [][2]string{
		{"Emily", "Johnson"}, {"Michael", "Williams"}, {"Sophia", "Brown"},
		{"James", "Davis"}, {"Emma", "Miller"}, {"Olivia", "Wilson"},
		{"Alexander", "Jones"}, {"Ava", "Taylor"}, {"Ethan", "Martinez"},
		{"Isabella", "Anderson"}, {"Liam", "Garcia"}, {"Mia", "Rodriguez"},
	}
	male := map[string]bool{"Michael": true, "James": true, "Alexander": true, "Ethan": true, "Liam": true}
	hair := []string{"Brown", "Black", "Blonde"}
	for i, n := range names {
		gender := "female"
		if male[n[0]] {
			gender = "male"
		}
		users = append(users, map[string]any{
			"id":        i + 1,
			"firstName": n[0],
			"lastName":  n[1],
			"username":  fmt.Sprintf("%s%c", strings.ToLower(n[0]), n[1][0]+'a'-'A'),
			"email":     fmt.Sprintf("%s.%s@x.dummyjson.com", strings.ToLower(n[0]), strings.ToLower(n[1])),
			"gender":    gender,
			"hair":      map[string]any{"color": hair[i%len(hair)]},
		})
	}

	titles := []string{
		"Essence Mascara Lash Princess", "Eyeshadow Palette with Mirror",
		"Powder Canister", "Red Lipstick", "Red Nail Polish",
		"Calvin Klein CK One", "Chanel Coco Noir Eau De", "Dior J'adore",
		"Annibale Colombo Bed", "Annibale Colombo Sofa",
	}
	brands := []string{
		"Essence", "Glamour Beauty", "Velvet Touch", "Chic Cosmetics", "Nail Couture",
		"Calvin Klein", "Chanel", "Dior", "Annibale Colombo", "Annibale Colombo",
	}
	products := make([]map[string]any, 0, len(titles))
	for i, title := range titles {
		category := "beauty"
		switch {
		case i >= 8:
			category = "furniture"
		case i >= 5:
			category = "fragrances"
		}
		products = append(products, map[string]any{
			"id":       i + 1,
			"title":    title,
			"price":    float64(10*(i+1)) - 0.01,
			"category": category,
			"brand":    brands[i],
		})
	}

	carts := make([]map[string]any, 0, 5)
	for i := 0; i < 5; i++ {
		carts = append(carts, map[string]any{
			"id":            i + 1,
			"userId":        i + 2,
			"total":         float64(100 * (i + 1)),
			"totalProducts": i + 1,
		})
	}

	return map[string][]map[string]any{
		"users":    users,
		"products": products,
		"carts":    carts,
	}
}
