package jsbind

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const maxRandomBytes = 65536

// subtleSeverity rates each SubtleCrypto method. Decryption of an embedded
// payload is the interesting case.
var subtleSeverity = map[string]int{
	"decrypt":     5,
	"encrypt":     4,
	"importKey":   3,
	"generateKey": 3,
	"deriveKey":   3,
	"deriveBits":  3,
	"unwrapKey":   4,
	"wrapKey":     3,
	"exportKey":   3,
	"sign":        2,
	"verify":      1,
	"digest":      1,
}

func installCrypto(s *Sandbox) error {
	c := s.hostObject("Crypto")
	c.Set("getRandomValues", s.getRandomValues)
	c.Set("randomUUID", func(goja.FunctionCall) goja.Value {
		id, err := uuid.NewRandomFromReader(s.rng)
		if err != nil {
			s.rethrow(err)
		}
		if s.allow("crypto.randomUUID") {
			s.record(dynamic.EventCryptoRandom, "crypto.randomUUID", nil, jsvalue.String(id.String()), 0, nil)
		}
		return s.vm.ToValue(id.String())
	})

	subtle := s.hostObject("SubtleCrypto")
	for method := range subtleSeverity {
		subtle.Set(method, s.subtle(method))
	}
	c.Set("subtle", subtle)
	return s.setGlobal("crypto", c)
}

// getRandomValues fills a typed array from the task's seeded generator.
func (s *Sandbox) getRandomValues(call goja.FunctionCall) goja.Value {
	arr, ok := call.Argument(0).(*goja.Object)
	if !ok {
		s.throwTypeError("Failed to execute 'getRandomValues' on 'Crypto': parameter 1 is not of type 'ArrayBufferView'.")
	}
	n := int(arr.Get("length").ToInteger())
	size := int(arr.Get("BYTES_PER_ELEMENT").ToInteger())
	if size <= 0 {
		size = 1
	}
	if n*size > maxRandomBytes {
		s.throwTypeError("Failed to execute 'getRandomValues' on 'Crypto': The ArrayBufferView's byte length (%d) exceeds the number of bytes of entropy available via this API (%d).", n*size, maxRandomBytes)
	}
	for i := 0; i < n; i++ {
		v := s.rng.Int63()
		if size < 8 {
			v %= int64(1) << (8 * uint(size))
		}
		if err := arr.Set(itoa(i), v); err != nil {
			s.rethrow(err)
		}
	}
	if s.allow("crypto.getRandomValues") {
		s.record(dynamic.EventCryptoRandom, "crypto.getRandomValues", nil, jsvalue.Undefined(), 0,
			jsvalue.MapOf("length", n, "bytes_per_element", size))
	}
	return arr
}

// subtle returns a SubtleCrypto method. Results are settled thenables; no
// cipher is actually applied, decrypt hands back its input.
func (s *Sandbox) subtle(method string) func(goja.FunctionCall) goja.Value {
	api := "crypto.subtle." + method
	return func(call goja.FunctionCall) goja.Value {
		algorithm := s.optString(call.Argument(0), "name")
		if algorithm == "" {
			algorithm = argString(call, 0)
		}
		if s.allow(api) {
			args := s.values(call.Arguments)
			s.record(dynamic.EventCryptoOperation, api, args, jsvalue.Undefined(), subtleSeverity[method],
				jsvalue.MapOf("algorithm", algorithm))
			if method == "decrypt" {
				data := ""
				if b, ok := bytesOf(call.Argument(2)); ok {
					data = latin1(b)
				}
				s.chain(api, args, jsvalue.String(data))
			}
		}

		switch method {
		case "digest":
			b, _ := bytesOf(call.Argument(1))
			return s.resolved(s.vm.ToValue(s.vm.NewArrayBuffer(digest(algorithm, b))))
		case "decrypt", "encrypt":
			b, _ := bytesOf(call.Argument(2))
			return s.resolved(s.vm.ToValue(s.vm.NewArrayBuffer(b)))
		case "verify":
			return s.resolved(s.vm.ToValue(true))
		case "sign", "exportKey", "deriveBits", "wrapKey":
			return s.resolved(s.vm.ToValue(s.vm.NewArrayBuffer(make([]byte, 32))))
		default:
			key := s.hostObject("CryptoKey")
			key.Set("type", "secret")
			key.Set("extractable", true)
			key.Set("algorithm", call.Argument(0))
			key.Set("usages", s.vm.NewArray())
			return s.resolved(key)
		}
	}
}

func digest(algorithm string, b []byte) []byte {
	switch strings.ToUpper(strings.ReplaceAll(algorithm, "-", "")) {
	case "SHA1":
		sum := sha1.Sum(b)
		return sum[:]
	case "SHA384":
		sum := sha512.Sum384(b)
		return sum[:]
	case "SHA512":
		sum := sha512.Sum512(b)
		return sum[:]
	default:
		sum := sha256.Sum256(b)
		return sum[:]
	}
}
