// cmd/loadgen/main.go
//
// Small load generator for the circulation service: seeds a shelf of
// copies, then runs concurrent borrowers issuing and returning them.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type counters struct {
	issued   atomic.Int64
	returned atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8082", "circulation service base URL")
	workers := flag.Int("workers", 8, "concurrent borrowers")
	copies := flag.Int("copies", 20, "copies to seed")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	codes := make([]string, 0, *copies)
	for i := 0; i < *copies; i++ {
		code := fmt.Sprintf("LG%d/%03d/26", i%10, i+1)
		if err := seedCopy(*baseURL, code); err != nil {
			log.Error("seed failed", "code", code, "err", err)
			os.Exit(1)
		}
		codes = append(codes, code)
	}
	log.Info("shelf seeded", "copies", len(codes))

	var c counters
	deadline := time.Now().Add(*duration)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			borrower := uuid.New()
			for time.Now().Before(deadline) {
				code := codes[rng.Intn(len(codes))]
				loanID, err := issue(*baseURL, code, borrower)
				if err != nil {
					c.failed.Add(1)
					continue
				}
				if loanID == "" {
					c.rejected.Add(1)
					continue
				}
				c.issued.Add(1)

				time.Sleep(time.Duration(rng.Intn(50)) * time.Millisecond)
				if err := returnLoan(*baseURL, loanID, code); err != nil {
					c.failed.Add(1)
					continue
				}
				c.returned.Add(1)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	log.Info("done",
		"issued", c.issued.Load(),
		"returned", c.returned.Load(),
		"rejected", c.rejected.Load(),
		"failed", c.failed.Load())
}

func seedCopy(baseURL, code string) error {
	body := map[string]any{
		"tracking_code": code,
		"title":         "Load Test Reader",
		"author":        "Generator",
		"copy_number":   1,
		"condition":     "good",
	}
	resp, err := postJSON(baseURL+"/copies", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Conflict means a previous run already seeded this copy.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("seed %s: status %d", code, resp.StatusCode)
	}
	return nil
}

// issue returns the loan id, or "" when the copy was already out.
func issue(baseURL, code string, borrower uuid.UUID) (string, error) {
	body := map[string]any{
		"tracking_code":      code,
		"borrower_id":        borrower,
		"borrower_kind":      "student",
		"due_at":             time.Now().Add(14 * 24 * time.Hour).Format(time.RFC3339),
		"condition_at_issue": "good",
	}
	resp, err := postJSON(baseURL+"/loans", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var loan struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&loan); err != nil {
			return "", err
		}
		return loan.ID, nil
	case http.StatusConflict:
		return "", nil
	default:
		return "", fmt.Errorf("issue %s: status %d", code, resp.StatusCode)
	}
}

func returnLoan(baseURL, loanID, code string) error {
	body := map[string]any{
		"presented_code": code,
		"condition":      "good",
	}
	resp, err := postJSON(fmt.Sprintf("%s/loans/%s/return", baseURL, loanID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("return %s: status %d", loanID, resp.StatusCode)
	}
	return nil
}

func postJSON(url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return http.Post(url, "application/json", bytes.NewReader(payload))
}
