// Command simulate_traffic drives a running flag service with synthetic
// evaluation traffic: useful for watching the caches, the metrics pipeline,
// and the live update stream behave under load.
//
//	go run scripts/simulate_traffic.go
//
// Environment: FLAGS_URL (default http://localhost:8080), FLAGS_TENANT.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/flagcore/backend/pkg/sdk"
)

func main() {
	baseURL := os.Getenv("FLAGS_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	tenantID := os.Getenv("FLAGS_TENANT")
	if tenantID == "" {
		tenantID = "00000000-0000-0000-0000-000000000001"
	}

	client := sdk.NewClient(sdk.Config{BaseURL: baseURL, TenantID: tenantID})
	ctx := context.Background()

	flags := []string{"dark-mode", "new-checkout", "beta-search"}

	stream, err := client.Subscribe(ctx, flags)
	if err != nil {
		log.Printf("flag stream unavailable, continuing without live updates: %v", err)
	} else {
		defer stream.Close()
		go func() {
			for update := range stream.Updates() {
				fmt.Printf("update: tenant=%s key=%q at %s\n", update.Tenant, update.Key, update.Timestamp)
			}
		}()
	}

	for i := 0; ; i++ {
		user := fmt.Sprintf("user-%03d", i%50)
		ec := sdk.Context{
			"userId":     user,
			"userRole":   []string{"member", "admin"}[i%2],
			"deviceType": []string{"mobile", "desktop"}[i%2],
		}

		batch, err := client.BatchEvaluate(ctx, flags, ec)
		if err != nil {
			log.Printf("batch failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for key, result := range batch.Results {
			fmt.Printf("%-12s %-14s value=%-5v source=%-8s reason=%s\n",
				user, key, result.Enabled(false), result.Source, result.Reason)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
