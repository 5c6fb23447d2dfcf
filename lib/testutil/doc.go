// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so that individual tests do not
// need direct time.After calls for positive waits. It is where real
// wall-clock timeouts live; test sequencing otherwise runs on
// lib/clock fakes.
//
// Helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
