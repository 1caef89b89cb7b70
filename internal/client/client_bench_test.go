package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func BenchmarkClient_BuildRequest(b *testing.B) {
	client, _ := NewOpenWeatherClient("test-api-key", "https://api.openweathermap.org/data/2.5/weather", 2*time.Second)
	ctx := context.Background()
	q := ByCoordinates(45.4642, 9.19)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.buildRequest(ctx, q)
	}
}

// BenchmarkClient_ParseAndMap benchmarks decoding a full response into Conditions.
func BenchmarkClient_ParseAndMap(b *testing.B) {
	body := []byte(sampleResponseJSON)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var apiResp openWeatherResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			b.Fatal(err)
		}
		_ = mapResponse(apiResp)
	}
}

func BenchmarkClient_HandleErrorResponse(b *testing.B) {
	client, _ := NewOpenWeatherClient("test-api-key", "url", time.Second)
	resp := &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       io.NopCloser(strings.NewReader("")),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.handleErrorResponse(resp)
	}
}

func BenchmarkStatusLabel(b *testing.B) {
	statusCodes := []int{200, 400, 429, 500, 503}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = statusLabel(statusCodes[i%len(statusCodes)])
	}
}
