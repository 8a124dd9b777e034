// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"net"
)

// RetryableError is implemented by errors that carry their own retry
// classification, such as model-endpoint call errors that know their
// HTTP status code.
type RetryableError interface {
	error
	Retryable() bool
}

// Retryable classifies an error for retry purposes.
//
// # Description
//
// Network/connection errors, timeouts, and error signals indicating rate
// limiting or transient server failure (429/502/503-class) are retryable.
// Everything else (schema violations, auth failures, cancelled contexts)
// is not. Context cancellation is deliberately non-retryable: the caller
// went away, retrying cannot help.
//
// Errors implementing RetryableError decide for themselves.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
