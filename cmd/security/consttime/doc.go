// Package consttime provides equality checks whose running time depends only
// on the length of the longer input.
//
// Unlike crypto/subtle.ConstantTimeCompare it does not return early when the
// inputs differ in length; the length difference is folded into the result.
package consttime
