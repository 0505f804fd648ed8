// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ktime

import (
	"unsafe"
)

// bytesToWords returns b as a slice of words. b must be 8-byte aligned,
// which page aligned mappings are.
func bytesToWords(b []byte) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// Bytes returns the words in use on the page, in host byte order. The view
// is not synchronized with writers; use Snapshot for consistent values.
func (p *ParamPage) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&p.words[0])), len(p.words)*8)[:ParamLength]
}
