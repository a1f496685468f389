package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Exercises the full delegation chain against locally running idp, api and
// worker processes: mint a user token, call the protected endpoints, start
// an orchestration and poll it to completion.
func main() {
	idpURL := flag.String("idp", "http://localhost:4100", "Identity provider base URL")
	apiURL := flag.String("api", "http://localhost:4000", "API base URL")
	workerURL := flag.String("worker", "http://localhost:4001", "Worker base URL")
	subject := flag.String("subject", "demo-user", "Subject for the minted token")
	audience := flag.String("audience", "api://simple-obo-api", "Audience for the minted token")
	workerAudience := flag.String("worker-audience", "api://simple-obo-worker", "Audience for the worker-facing token")
	scope := flag.String("scope", "api1.readwrite", "Scope for the minted token")
	pollInterval := flag.Duration("poll-interval", 500*time.Millisecond, "Orchestration status poll interval")
	pollTimeout := flag.Duration("poll-timeout", 30*time.Second, "Give up polling after this long")
	flag.Parse()

	token, err := mintToken(*idpURL, *subject, *audience, *scope)
	if err != nil {
		slog.Error("Failed minting token", "err", err)
		os.Exit(1)
	}
	slog.Info("Minted user token", "subject", *subject, "scope", *scope)

	for _, path := range []string{"/hi", "/token", "/keyvault"} {
		body, err := getWithToken(*apiURL+path, token)
		if err != nil {
			slog.Error("Request failed", "path", path, "err", err)
			os.Exit(1)
		}
		fmt.Printf("GET %s\n%s\n\n", path, body)
	}

	// The worker validates its own audience, so it gets its own token
	workerToken, err := mintToken(*idpURL, *subject, *workerAudience, *scope)
	if err != nil {
		slog.Error("Failed minting worker token", "err", err)
		os.Exit(1)
	}
	slog.Info("Minted worker token", "subject", *subject, "audience", *workerAudience)

	statusPath, err := startOrchestration(*workerURL, workerToken)
	if err != nil {
		slog.Error("Failed starting orchestration", "err", err)
		os.Exit(1)
	}
	slog.Info("Started orchestration", "statusUri", statusPath)

	output, err := pollOrchestration(*workerURL+statusPath, workerToken, *pollInterval, *pollTimeout)
	if err != nil {
		slog.Error("Orchestration did not complete", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Orchestration output:\n%s\n", output)
}

func mintToken(idpURL, subject, audience, scope string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"subject":  subject,
		"audience": audience,
		"scopes":   []string{scope},
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(idpURL+"/mint", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to call mint endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mint endpoint returned status %d", resp.StatusCode)
	}

	var minted struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		return "", fmt.Errorf("failed to parse mint response: %w", err)
	}
	return minted.AccessToken, nil
}

func getWithToken(url, token string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func startOrchestration(workerURL, token string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, workerURL+"/Function1_HttpStart", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var started struct {
		StatusQueryGetURI string `json:"statusQueryGetUri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return "", fmt.Errorf("failed to parse start response: %w", err)
	}
	return started.StatusQueryGetURI, nil
}

func pollOrchestration(statusURL, token string, interval, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		body, err := getWithToken(statusURL, token)
		if err != nil {
			return "", err
		}

		var status struct {
			RuntimeStatus string `json:"runtimeStatus"`
			Output        string `json:"output"`
			Error         string `json:"error"`
		}
		if err := json.Unmarshal([]byte(body), &status); err != nil {
			return "", fmt.Errorf("failed to parse status response: %w", err)
		}

		switch status.RuntimeStatus {
		case "Completed":
			return status.Output, nil
		case "Failed":
			return "", fmt.Errorf("orchestration failed: %s", status.Error)
		}

		time.Sleep(interval)
	}
	return "", fmt.Errorf("orchestration still running after %s", timeout)
}
