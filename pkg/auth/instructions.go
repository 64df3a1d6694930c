package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowKeyGuide writes step-by-step instructions for obtaining a Pexels API key
func ShowKeyGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, "🔑 PEXELS API KEY GUIDE")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "pexelsync searches Pexels with your own API key. Getting one is free:")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "🌐 STEP 1: Create a Pexels account")
	fmt.Fprintln(w, "   - Go to https://www.pexels.com/join/")
	fmt.Fprintln(w, "   - Sign up or log in")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📝 STEP 2: Request a key")
	fmt.Fprintln(w, "   - Open https://www.pexels.com/api/new/")
	fmt.Fprintln(w, "   - Describe the project you will use the key for")
	fmt.Fprintln(w, "   - Accept the API terms")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📋 STEP 3: Store the key")
	fmt.Fprintln(w, "   - Run: pexelsync auth login")
	fmt.Fprintln(w, "   - Or put PEXELS_API_KEY=<key> in a key file and pass --key-file")
	fmt.Fprintln(w, "   - Or export PEXELS_API_KEY in your shell")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "💡 TIPS:")
	fmt.Fprintln(w, "   • The default limit is 200 requests per hour and 20,000 per month")
	fmt.Fprintln(w, "   • Check a key without running a sync: pexelsync key check")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "⚠️  Keep the key private. Stored keys are kept in the system keyring or an encrypted file.")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w)
}

// ShowQuickKeyGuide shows a condensed version for experienced users
func ShowQuickKeyGuide(w io.Writer) {
	fmt.Fprintln(w, "\n🔑 Quick Guide: https://www.pexels.com/api/new/ → copy the key → pexelsync auth login")
}
