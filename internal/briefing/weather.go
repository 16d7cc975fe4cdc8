package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WeatherClient fetches current conditions from the open-meteo forecast
// API, which needs no API key.
type WeatherClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewWeatherClient() *WeatherClient {
	return &WeatherClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.open-meteo.com",
	}
}

type currentWeather struct {
	Temperature float64 `json:"temperature"`
	WeatherCode int     `json:"weathercode"`
}

type forecastResponse struct {
	CurrentWeather currentWeather `json:"current_weather"`
}

// Describe returns a spoken-form summary of the current weather at the
// given coordinates.
func (c *WeatherClient) Describe(ctx context.Context, lat, lon float64) (string, error) {
	url := fmt.Sprintf("%s/v1/forecast?latitude=%f&longitude=%f&current_weather=true", c.baseURL, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather api returned status %d", resp.StatusCode)
	}

	var parsed forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode weather response: %w", err)
	}

	return fmt.Sprintf("It's currently %d degrees and %s.",
		int(parsed.CurrentWeather.Temperature),
		weatherCodeToString(parsed.CurrentWeather.WeatherCode)), nil
}

// weatherCodeToString maps WMO weather interpretation codes to a phrase.
func weatherCodeToString(code int) string {
	switch code {
	case 0:
		return "Clear sky"
	case 1, 2, 3:
		return "Mainly clear, partly cloudy, or overcast"
	case 45, 48:
		return "Foggy"
	case 51, 53, 55:
		return "Drizzling"
	case 56, 57:
		return "Freezing Drizzle"
	case 61, 63, 65:
		return "Raining"
	case 66, 67:
		return "Freezing Rain"
	case 71, 73, 75:
		return "Snowing"
	case 77:
		return "Snow grains"
	case 80, 81, 82:
		return "Rain showers"
	case 85, 86:
		return "Snow showers"
	case 95:
		return "Thunderstorm"
	case 96, 99:
		return "Thunderstorm with hail"
	default:
		return "the weather is unusual"
	}
}
