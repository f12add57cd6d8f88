// Package textutil turns user-supplied labels into filesystem-safe tokens.
package textutil
