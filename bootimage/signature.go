/*
 * bootcore - PKCS#7 signature checker
 *
 * Copyright 2025, HSS Boot Core Contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package bootimage

import (
	"bytes"
	"encoding/binary"

	"go.mozilla.org/pkcs7"
)

// PKCS7Signer checks a Boot Image's signature field as a detached
// PKCS#7 SignedData blob over the header-with-signature-zeroed, the
// same shadow the CRC is computed over. The signature field carries
// the DER-encoded SignedData directly; images built without signing
// enabled leave it zero-filled and never reach this checker.
type PKCS7Signer struct{}

func NewPKCS7Signer() *PKCS7Signer { return &PKCS7Signer{} }

// CheckSignature implements SignatureChecker.
func (s *PKCS7Signer) CheckSignature(img *Image) bool {
	sig := trimTrailingZeros(img.Header.Signature[:])
	if len(sig) == 0 {
		return false
	}
	p7, err := pkcs7.Parse(sig)
	if err != nil {
		return false
	}

	shadow := img.Header
	shadow.HeaderCRC = 0
	for i := range shadow.Signature {
		shadow.Signature[i] = 0
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, shadow); err != nil {
		return false
	}
	p7.Content = buf.Bytes()

	return p7.Verify() == nil
}

func trimTrailingZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
