package lib

// Package lib contains small helpers and exported API for the zkfl project.
// The intent is to keep project-wide constants out of the protocol packages.

// Name is the canonical project name.
const Name = "zkfl"

// Version is the current semantic version of the library.
const Version = "0.1.0"
