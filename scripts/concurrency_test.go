//go:build ignore
// +build ignore

// Manual concurrency stress test for the borrow endpoint.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <user1_id> [user2_id ...]
//
// Or via environment variables:
//
//	BOOK_ID=<uuid> USER_IDS=<uuid1>,<uuid2>,... go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per user) all attempting to borrow the same
//     book simultaneously.
//  2. Tallies successful borrows vs. "currently unavailable" rejections.
//  3. If the number of successes is at most the book's copy count before the
//     run, the conditional copy decrement held under contention.
//
// Prerequisites: server running, migrations applied, the book and users
// present in the database.

package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	UserID     string
	StatusCode int
	Body       string
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	var userIDs []string
	if v := os.Getenv("USER_IDS"); v != "" {
		userIDs = strings.Split(v, ",")
	}

	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		userIDs = args[1:]
	}

	if bookID == "" || len(userIDs) == 0 {
		log.Fatal("Usage: BOOK_ID=<uuid> USER_IDS=<u1,u2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <user1_id> [user2_id ...]")
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server : %s\n", serverAddr)
	fmt.Printf("Book   : %s\n", bookID)
	fmt.Printf("Users  : %d\n\n", len(userIDs))

	results := make([]borrowResult, len(userIDs))
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i, uid := range userIDs {
		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, bookID, strings.TrimSpace(userID))
		}(i, uid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()

	var borrowed, unavailable, other int
	for _, r := range results {
		switch {
		case r.Err != nil:
			other++
			fmt.Printf("  [ERR ] user=%-38s err=%v\n", r.UserID, r.Err)
		case r.StatusCode == http.StatusCreated:
			borrowed++
			fmt.Printf("  [BRRW] user=%-38s status=%d\n", r.UserID, r.StatusCode)
		case strings.Contains(r.Body, "currently unavailable"):
			unavailable++
			fmt.Printf("  [FULL] user=%-38s status=%d\n", r.UserID, r.StatusCode)
		default:
			other++
			fmt.Printf("  [FAIL] user=%-38s status=%d body=%s\n", r.UserID, r.StatusCode, r.Body)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Borrowed    : %d\n", borrowed)
	fmt.Printf("Unavailable : %d\n", unavailable)
	fmt.Printf("Other       : %d\n", other)
	fmt.Printf("Total       : %d\n\n", len(userIDs))

	fmt.Println("If Borrowed is at most the book's copy count before the run,")
	fmt.Println("the conditional copy decrement held under contention.")

	if other > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed unexpectedly — check server logs.\n", other)
		os.Exit(1)
	}
}

func attemptBorrow(serverAddr, bookID, userID string) borrowResult {
	body := fmt.Sprintf(`{"user_id":%q,"book_id":%q}`, userID, bookID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(serverAddr+"/borrows", "application/json", bytes.NewBufferString(body))
	if err != nil {
		return borrowResult{UserID: userID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	return borrowResult{
		UserID:     userID,
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}
}
