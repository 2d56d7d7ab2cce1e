// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows the hosting site's dev and production origins to
// reach the control surface from the browser.
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://[::1]:3000",
			"https://limilighting.com",
			"https://www.limilighting.com",
		},
		AllowMethods: []string{
			"GET", "POST", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "X-Requested-With",
		},
		AllowCredentials: true,
	})
}
