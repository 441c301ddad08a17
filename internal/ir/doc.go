// Package ir provides the value and document types shared by the liveq
// query engine and the session layer.
//
// ir imports nothing internal. Every other internal package may import it.
//
// Key design constraints:
//   - NO float types anywhere. Numbers are int64.
//   - Result payloads are serialized with MarshalCanonical so that two
//     identical result sets always produce identical bytes (and hashes).
//   - Variables and rows are IRObject values; JSON null is rejected at the
//     parsing boundary.
package ir
