package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	var adminPassword string
	flag.StringVar(&adminPassword, "admin-password", "", "admin password to hash with bcrypt (optional)")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for Room Selection Backend")
	fmt.Println("===========================================")
	fmt.Println()

	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", base64.URLEncoding.EncodeToString(secret))

	if adminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
		fmt.Printf("ADMIN_PASSWORD_HASH=%s\n", string(hash))
	} else {
		fmt.Println()
		fmt.Println("Pass -admin-password to also generate ADMIN_PASSWORD_HASH.")
	}

	fmt.Println()
	fmt.Println("Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
