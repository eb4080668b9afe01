/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package googleads builds the OAuth2 credentials the report client needs
// to call the Google Ads API. It stops at the credential boundary: the
// report client itself (pkg/extractor.ReportClient) is implemented outside
// this module.
package googleads

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
)

var requiredFields = []string{
	"DEVELOPER_TOKEN",
	"CLIENT_ID",
	"CLIENT_SECRET",
	"REFRESH_TOKEN",
	"LOGIN_CUSTOMER_ID",
}

// Credentials carries the identifiers and OAuth2 token source a report
// client needs to authenticate against the Google Ads API.
type Credentials struct {
	DeveloperToken   string
	LoginCustomerID  string
	LinkedCustomerID string
	TokenSource      oauth2.TokenSource
}

func envKey(prefix, suffix string) string {
	return prefix + "_" + suffix
}

func normalizeCustomerID(value string) string {
	return strings.ReplaceAll(value, "-", "")
}

// Load builds Credentials from environment variables prefixed with
// prefix (default "GOOGLE_ADS" if empty). It returns a ConfigError
// naming every missing variable at once, matching the fail-fast behavior
// of the loader this was ported from.
func Load(ctx context.Context, prefix string) (*Credentials, error) {
	if prefix == "" {
		prefix = "GOOGLE_ADS"
	}
	prefix = strings.ToUpper(prefix)

	values := map[string]string{}
	var missing []string
	for _, field := range requiredFields {
		key := envKey(prefix, field)
		value := os.Getenv(key)
		if value == "" {
			missing = append(missing, key)
			continue
		}
		values[field] = value
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, pipelineerrors.NewConfigError(
			fmt.Sprintf("missing Google Ads environment variables: %s", strings.Join(missing, ", ")),
		)
	}

	conf := &oauth2.Config{
		ClientID:     values["CLIENT_ID"],
		ClientSecret: values["CLIENT_SECRET"],
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: values["REFRESH_TOKEN"]}

	return &Credentials{
		DeveloperToken:   values["DEVELOPER_TOKEN"],
		LoginCustomerID:  normalizeCustomerID(values["LOGIN_CUSTOMER_ID"]),
		LinkedCustomerID: normalizeCustomerID(os.Getenv(envKey(prefix, "CUSTOMER_ID"))),
		TokenSource:      conf.TokenSource(ctx, token),
	}, nil
}
