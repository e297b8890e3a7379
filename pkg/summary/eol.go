//go:build !windows

package summary

const eol = "\n"
