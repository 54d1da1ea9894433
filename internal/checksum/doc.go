// SPDX-License-Identifier: MPL-2.0

// Package checksum computes and compares SHA256 digests of on-disk artifacts
// and parses release-wide checksum manifests in sha256sum format.
//
// Verification never reads a whole file into memory; digests are computed by
// streaming the file through the hash. The package reports results and leaves
// policy (reject, fail closed, warn and continue) to the caller.
package checksum
