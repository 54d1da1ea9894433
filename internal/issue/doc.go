// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors that name the failed operation,
// the resource involved and what the user can do about it.
package issue
