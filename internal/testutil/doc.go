// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by tests across packages: a
// controllable clock and per-platform home directory isolation.
package testutil
