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

package main

import (
	"context"
	"time"

	pipelineerrors "github.com/jordigilh/gads-etl/internal/errors"
	"github.com/jordigilh/gads-etl/internal/googleads"
	"github.com/jordigilh/gads-etl/pkg/extractor"
)

// unimplementedReportClient satisfies extractor.ReportClient with
// validated OAuth2 credentials in hand but no wire call: the actual
// Google Ads API client (protobuf services, retry/backoff, quota
// handling) is an external dependency this module does not vendor.
// Swapping it for a real client means implementing StreamReport against
// the official SDK and passing it to extractor.New in its place.
type unimplementedReportClient struct {
	credentials *googleads.Credentials
}

func (c *unimplementedReportClient) StreamReport(ctx context.Context, customerID, gaqlQuery string, fn func(extractor.ReportRow) error) error {
	return pipelineerrors.NewTransportError(
		"stream report rows",
		errUnimplementedReportClient,
	)
}

var errUnimplementedReportClient = &unimplementedClientError{}

type unimplementedClientError struct{}

func (*unimplementedClientError) Error() string {
	return "no Google Ads report client is wired into this build"
}

func zeroTime() time.Time {
	return time.Time{}
}
