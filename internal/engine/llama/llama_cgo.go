//go:build llama

package llama

// cgo link directives for the in-process llama runtime: rpath $ORIGIN so
// libllama.so next to the binary is found at run time, and -L bin for linking.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lllama
*/
import "C"
