package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

var httpClient = &http.Client{Timeout: 10 * time.Minute}

func baseURL() string {
	return viper.GetString("server")
}

func getJSON(path string, out interface{}) error {
	resp, err := httpClient.Get(baseURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func postJSON(path string, body []byte, out interface{}) error {
	resp, err := httpClient.Post(baseURL()+path, "application/yaml", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("controller: %s (HTTP %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("controller: HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
