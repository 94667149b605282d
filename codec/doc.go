// Package codec encodes and decodes NetworkMessages for the two wire
// encodings a ReaderGroup may be configured with: UADP (binary,
// little-endian, bit-exact with the OPC UA Part 14 layout) and an
// equivalent JSON schema.
package codec
