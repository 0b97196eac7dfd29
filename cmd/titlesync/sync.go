package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Titles []catalogTitle `yaml:"titles"`
}

type catalogTitle struct {
	ID          string `yaml:"id" json:"-"`
	Name        string `yaml:"name" json:"name"`
	TotalCopies int    `yaml:"totalCopies" json:"totalCopies"`
}

type tokenSource interface {
	Sign(audience string) (string, error)
}

type syncResult struct {
	Created int
	Updated int
	Failed  []string
}

func loadCatalog(path string) ([]catalogTitle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Titles))
	for i, t := range doc.Titles {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog entry %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	return doc.Titles, nil
}

// syncTitles pushes every title to circulation. A failed title is recorded
// and the rest still go out.
func syncTitles(ctx context.Context, client *http.Client, baseURL, audience string, tokens tokenSource, titles []catalogTitle) (syncResult, error) {
	var res syncResult
	base := strings.TrimRight(baseURL, "/")
	for _, t := range titles {
		token, err := tokens.Sign(audience)
		if err != nil {
			return res, fmt.Errorf("sign service token: %w", err)
		}
		status, err := putTitle(ctx, client, base+"/internal/titles/"+url.PathEscape(t.ID), token, t)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, fmt.Sprintf("%s: %v", t.ID, err))
		case status == http.StatusCreated:
			res.Created++
		default:
			res.Updated++
		}
	}
	if len(res.Failed) > 0 {
		return res, errors.New(strings.Join(res.Failed, "; "))
	}
	return res, nil
}

func putTitle(ctx context.Context, client *http.Client, target, token string, t catalogTitle) (int, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return resp.StatusCode, fmt.Errorf("status %d %s %s", resp.StatusCode, e.Code, e.Error)
	}
	return resp.StatusCode, nil
}
