package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Smoke test against a running service. Exercises ingestion, duplicate
// handling, validation, and the recent-events query.

type submitResponse struct {
	Status string `json:"status"`
}

func main() {
	baseURL := "http://localhost:8080"
	ts := time.Now().UnixMilli()

	// 1. POST /motion twice with the same (sensor, timestamp) key.
	payload, _ := json.Marshal(map[string]any{
		"sensor":    "PIR1",
		"type":      "motion_on",
		"timestamp": ts,
	})
	for i, want := range []string{"ok", "duplicate"} {
		resp, err := http.Post(baseURL+"/motion", "application/json", bytes.NewReader(payload))
		if err != nil {
			panic(err)
		}
		var sr submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			panic(err)
		}
		resp.Body.Close()
		fmt.Printf("POST /motion #%d: %s (want %s)\n", i+1, sr.Status, want)
		if sr.Status != want {
			fmt.Println("FAIL: duplicate handling broken")
		}
	}

	// 2. Missing sensor must be rejected.
	bad, _ := json.Marshal(map[string]any{"type": "motion_on"})
	resp, err := http.Post(baseURL+"/motion", "application/json", bytes.NewReader(bad))
	if err != nil {
		panic(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	fmt.Printf("POST /motion without sensor: HTTP %d %s\n", resp.StatusCode, string(body))
	if resp.StatusCode != http.StatusBadRequest {
		fmt.Println("FAIL: validation broken")
	}

	// 3. The event we just stored must come back newest-first.
	resp, err = http.Get(baseURL + "/motion?limit=1&sensor=PIR1")
	if err != nil {
		panic(err)
	}
	var events []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		panic(err)
	}
	resp.Body.Close()
	if pretty, err := json.MarshalIndent(events, "", "  "); err == nil {
		fmt.Printf("GET /motion?limit=1&sensor=PIR1:\n%s\n", string(pretty))
	}
	if len(events) != 1 {
		fmt.Printf("FAIL: expected 1 event, got %d\n", len(events))
	}

	fmt.Println("E2E test completed")
}
