// Copyright 2025 Loom ML Library. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the CPU compute backend for the Loom attention
// library.
//
// The backend implements every tensor.Backend operation as a pure Go
// reference kernel (naive matmul and softmax paths). It is the default
// backend for running and testing the attention modules.
package cpu
