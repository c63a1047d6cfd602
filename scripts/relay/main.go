package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Edge relay simulator. Reads raw sensor lines from stdin ("PIR1 ON",
// "PIR1 OFF"), debounces so only level changes become events, and POSTs them
// to /motion. Events that cannot be delivered are buffered and replayed with
// their original timestamps, so the server can deduplicate retries.

type motionEvent struct {
	Sensor    string `json:"sensor"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "ingestion base URL")
	debounce := flag.Duration("debounce", 200*time.Millisecond, "minimum gap between level changes")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	lastLevel := make(map[string]string)
	lastChange := make(map[string]time.Time)
	var buffer []motionEvent

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		sensor, level := fields[0], strings.ToUpper(fields[1])
		if level != "ON" && level != "OFF" {
			continue
		}

		now := time.Now()
		if lastLevel[sensor] == level {
			continue
		}
		if now.Sub(lastChange[sensor]) < *debounce {
			continue
		}
		lastLevel[sensor] = level
		lastChange[sensor] = now

		eventType := "motion_on"
		if level == "OFF" {
			eventType = "motion_off"
		}
		buffer = append(buffer, motionEvent{
			Sensor:    sensor,
			Type:      eventType,
			Timestamp: now.UnixMilli(),
		})
		buffer = flush(client, *baseURL, buffer)
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("stdin error: %v\n", err)
	}

	// Final drain with a short retry budget.
	for attempt := 1; attempt <= 3 && len(buffer) > 0; attempt++ {
		buffer = flush(client, *baseURL, buffer)
		if len(buffer) > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	if len(buffer) > 0 {
		fmt.Printf("giving up on %d undelivered events\n", len(buffer))
	}
}

// flush sends buffered events oldest first and returns whatever is still
// undelivered. Order matters: replaying in order keeps timestamps plausible
// on the server side.
func flush(client *http.Client, baseURL string, buffer []motionEvent) []motionEvent {
	for i, event := range buffer {
		if err := post(client, baseURL, event); err != nil {
			fmt.Printf("delivery failed, buffering %d events: %v\n", len(buffer)-i, err)
			return buffer[i:]
		}
	}
	return nil
}

func post(client *http.Client, baseURL string, event motionEvent) error {
	payload, _ := json.Marshal(event)
	resp, err := client.Post(baseURL+"/motion", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	fmt.Printf("sent %s %s: %s\n", event.Sensor, event.Type, strings.TrimSpace(string(body)))
	return nil
}
