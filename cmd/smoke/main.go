// Command smoke exercises a running server end to end: health, a related
// query, an expansion and a repeated connect that must be served from the
// edge cache.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	query := flag.String("query", "Graph theory", "query to explore")
	flag.Parse()

	client := &http.Client{Timeout: 60 * time.Second}
	identity := uuid.NewString()

	fmt.Println("1. Health...")
	if _, ok := call(client, http.MethodGet, *baseURL+"/api/health", nil, identity); !ok {
		fail("health")
	}

	fmt.Println("2. Related...")
	raw, ok := call(client, http.MethodPost, *baseURL+"/api/related", map[string]any{"query": *query, "k": 10}, identity)
	if !ok {
		fail("related")
	}
	var related struct {
		QueryID *int64 `json:"query_id"`
		Results []struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
			Score int    `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &related); err != nil || len(related.Results) == 0 {
		fail("related returned no results")
	}
	for _, r := range related.Results {
		fmt.Printf("   %3d  %s\n", r.Score, r.Title)
	}

	fmt.Println("3. Expand...")
	if _, ok := call(client, http.MethodPost, *baseURL+"/api/expand", map[string]any{"query": related.Results[0].Title, "k": 10}, identity); !ok {
		fail("expand")
	}

	fmt.Println("4. Connect twice...")
	ids := make([]int64, 0, len(related.Results))
	for _, r := range related.Results {
		ids = append(ids, r.ID)
	}
	payload := map[string]any{"new_ids": ids[:1], "existing_ids": ids[1:]}
	first, ok := call(client, http.MethodPost, *baseURL+"/api/connect", payload, identity)
	if !ok {
		fail("connect")
	}
	second, ok := call(client, http.MethodPost, *baseURL+"/api/connect", payload, identity)
	if !ok {
		fail("connect (cached)")
	}
	if !bytes.Equal(bytes.TrimSpace(first), bytes.TrimSpace(second)) {
		fail("cached connect returned different edges")
	}
	fmt.Println("PASSED")
}

func call(client *http.Client, method, url string, payload any, identity string) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Identity-ID", identity)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}
	return respBody, true
}

func fail(step string) {
	fmt.Printf("FAILED: %s\n", step)
	os.Exit(1)
}
