package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("lua-cheia\n"))
	rootCmd.SetArgs([]string{"hash-password"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("lua-cheia")); err != nil {
		t.Errorf("printed hash does not match: %v", err)
	}
}
