// Package cryptoutil seals small payloads with KMS envelope encryption.
//
// Each Seal asks KMS for a fresh AES-256 data key, encrypts the payload
// locally with AES-256-GCM and keeps only the KMS-encrypted copy of the key
// next to the ciphertext. Open reverses it with a KMS Decrypt call.
package cryptoutil
