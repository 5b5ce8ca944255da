package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	baseURL = "http://localhost:8080"
)

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	companyID := fmt.Sprintf("smoke-company-%d", time.Now().Unix())

	fmt.Println("1. Creating dedup rule...")
	rule := map[string]any{
		"company_id": companyID,
		"entity":     "supplier",
		"key_fields": []string{"name", "cnpj"},
		"threshold":  0.8,
		"enabled":    true,
	}
	if _, ok := sendRequest("POST", "/rules", rule, http.StatusCreated); !ok {
		fail("Create rule")
	}
	fmt.Println("PASSED: Create rule")

	fmt.Println("2. Importing suppliers...")
	first := map[string]any{
		"company_id": companyID,
		"entity":     "supplier",
		"records": []map[string]any{
			{"name": "Acme Industria Ltda", "cnpj": "12.345.678/0001-90", "city": "Sao Paulo"},
		},
	}
	if _, ok := sendRequest("POST", "/records/import", first, http.StatusOK); !ok {
		fail("Import suppliers")
	}
	fmt.Println("PASSED: Import suppliers")

	fmt.Println("3. Re-importing a near duplicate...")
	second := map[string]any{
		"company_id": companyID,
		"entity":     "supplier",
		"records": []map[string]any{
			{"name": "ACME Industria Ltda.", "cnpj": "12.345.678/0001-90", "city": "Campinas"},
		},
	}
	body, ok := sendRequest("POST", "/records/import", second, http.StatusOK)
	if !ok {
		fail("Re-import supplier")
	}
	var resp struct {
		Outcomes []struct {
			Action    string `json:"action"`
			MatchedID string `json:"matched_id"`
		} `json:"outcomes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Outcomes) != 1 || resp.Outcomes[0].Action != "merged" {
		fail("Re-import should merge into the existing supplier")
	}
	fmt.Println("PASSED: Re-import merged")

	fmt.Println("4. Reading merge history...")
	if _, ok := sendRequest("GET", "/records/"+resp.Outcomes[0].MatchedID+"/history?company_id="+companyID, nil, http.StatusOK); !ok {
		fail("Merge history")
	}
	fmt.Println("PASSED: Merge history")

	fmt.Println("5. Reading merged record...")
	if _, ok := sendRequest("GET", "/records/"+resp.Outcomes[0].MatchedID+"?company_id="+companyID, nil, http.StatusOK); !ok {
		fail("Read record")
	}
	if _, ok := sendRequest("GET", "/records/"+resp.Outcomes[0].MatchedID+"?company_id=other-"+companyID, nil, http.StatusNotFound); !ok {
		fail("Record must not be visible to another company")
	}
	fmt.Println("PASSED: Read record")
}

func fail(step string) {
	fmt.Printf("FAILED: %s\n", step)
	os.Exit(1)
}

func sendRequest(method, endpoint string, payload any, wantStatus int) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}

	fmt.Printf("Response: %s\n", string(respBody))
	return respBody, true
}
