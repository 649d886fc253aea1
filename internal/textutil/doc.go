// Package textutil provides text normalization and string similarity
// primitives used by proposal validation.
//
// Normalize case-folds and collapses whitespace so similarity compares
// content, not formatting. Ratio computes a sequence-matching similarity in
// [0,1] where 0 means disjoint and 1 means identical after normalization.
package textutil
