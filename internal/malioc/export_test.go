package malioc

var DefaultBinaryFor = defaultBinary
