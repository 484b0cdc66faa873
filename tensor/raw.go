// Copyright 2025 Loom ML Library. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/loom-ml/loom/internal/tensor"

// RawTensor is the low-level, dtype-erased tensor representation: a flat
// row-major buffer plus shape, strides and runtime type information.
//
// Backend implementations operate on RawTensors; typical users work with
// the typed Tensor API instead.
type RawTensor = tensor.RawTensor
