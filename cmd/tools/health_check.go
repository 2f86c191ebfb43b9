package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"fraudScoringApp/internal/health"
)

type healthResponse struct {
	Status string          `json:"status"`
	Checks []health.Status `json:"checks"`
}

func main() {
	defaultURL := os.Getenv("HEALTH_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080/health"
	}
	url := flag.String("url", defaultURL, "health endpoint")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	fmt.Println("fraud scoring health check")
	fmt.Println("--------------------------")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := checkServiceHealth(ctx, *url)
	if resp != nil {
		for _, c := range resp.Checks {
			state := "ok"
			if !c.Healthy {
				state = "FAIL " + c.Detail
			}
			fmt.Printf("  %-12s %s\n", c.Name, state)
		}
	}
	if err != nil {
		fmt.Printf("Service is NOT healthy: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Service is healthy!")
}

func checkServiceHealth(ctx context.Context, url string) (*healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return &body, fmt.Errorf("status %d (%s)", res.StatusCode, body.Status)
	}
	return &body, nil
}
