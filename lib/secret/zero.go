// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

// Zero overwrites every byte of data with zeros. Use it on transient
// heap slices that held secret material (file contents, decoded JSON)
// once the secret has been copied into a Buffer.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
