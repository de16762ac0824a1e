package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Legend-Guardian/sdk/go/guardian"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/intent", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(guardian.IntentResponse{
			Intent:        "execute_plan",
			Source:        "rules",
			CorrelationID: "corr-demo",
			Plan: &guardian.Plan{
				ID:     "plan-demo",
				Goal:   "compile the workspace and run tests",
				Status: "completed",
				Results: []guardian.StepResult{
					{Action: "compile", Status: "succeeded"},
					{Action: "run_tests", Status: "succeeded"},
				},
			},
		})
	})
	mux.HandleFunc("/api/v1/episodes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"episodes": []guardian.Episode{{
				ID:        "ep-demo",
				EventType: "plan_completed",
				Summary:   "compile the workspace and run tests; compile succeeded; run_tests succeeded",
				CreatedAt: time.Now().UTC(),
			}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := guardian.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAccessToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.SubmitIntent(ctx, guardian.IntentRequest{
		Prompt:  "compile the workspace and run tests",
		Execute: true,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("plan %s finished with status %s\n", resp.Plan.ID, resp.Plan.Status)

	episodes, err := client.Episodes(ctx, "plan_completed", 5)
	if err != nil {
		panic(err)
	}
	for _, episode := range episodes {
		fmt.Printf("remembered: %s\n", episode.Summary)
	}
}
