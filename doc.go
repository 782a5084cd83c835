// Package main provides the go-iconpack CLI tool for building Android icon
// pack APKs.
//
// For the library API, see the subpackages:
//
//	import "github.com/aluedeke/go-iconpack/pkg/iconpack" // export pipeline
//	import "github.com/aluedeke/go-iconpack/pkg/archive"  // ZIP reading, writing and alignment
//	import "github.com/aluedeke/go-iconpack/pkg/apksign"  // v1, v2 and v3 signing
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/aluedeke/go-iconpack@latest
package main
