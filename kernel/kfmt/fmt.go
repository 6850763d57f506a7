// Package kfmt provides a minimal, allocation-free Printf implementation
// that can be safely used from the earliest stages of kernel boot, before
// the Go runtime (and hence fmt) is available.
package kfmt

import "io"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// numFmtBuf is a shared scratch buffer for formatting numbers. A 64-bit
	// value needs at most 20 digits in base 10.
	numFmtBuf [20]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite without triggering a string-to-slice allocation.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output emitted before the console
	// collaborator attaches an output sink.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While nil,
	// output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any data
// accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats its arguments according to format and writes the result to
// the registered output sink. It supports the following subset of the fmt
// verbs:
//
//	%s  the uninterpreted bytes of a string or byte slice
//	%d  integers in base 10
//	%x  integers in base 16, lower-case letters for a-f
//	%t  "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. Strings and base-10 integers narrower than the width are left-padded
// with spaces; base-16 integers are left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArgIndex int
		fmtLen       = len(format)
	)

	for index := 0; index < fmtLen; index++ {
		ch := format[index]
		if ch != '%' {
			singleByte[0] = ch
			doWrite(w, singleByte)
			continue
		}

		// Scan the optional width followed by the verb character.
		padLen := 0
		index++
	parseFmt:
		for ; index < fmtLen; index++ {
			ch = format[index]
			switch {
			case ch == '%':
				singleByte[0] = '%'
				doWrite(w, singleByte)
				break parseFmt
			case ch >= '0' && ch <= '9':
				padLen = (padLen * 10) + int(ch-'0')
				continue
			case ch == 'd' || ch == 'x' || ch == 's' || ch == 't':
				if nextArgIndex >= len(args) {
					doWrite(w, errMissingArg)
					break parseFmt
				}

				switch ch {
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			default:
				doWrite(w, errNoVerb)
				break parseFmt
			}
		}
	}

	// Check for unused args
	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

// doWrite sends p to w, falling back to the early print buffer when no sink
// has been registered yet.
func doWrite(w io.Writer, p []byte) {
	if w == nil {
		earlyPrintBuffer.Write(p)
		return
	}
	w.Write(p)
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, isBool := v.(bool)
	if !isBool {
		doWrite(w, errWrongArgType)
		return
	}

	if bVal {
		doWrite(w, trueValue)
		return
	}
	doWrite(w, falseValue)
}

// fmtString prints a formatted version of string or byte-slice value v,
// left-padding with spaces up to padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch sVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(sVal))
		// Converting the string to a byte slice would trigger a memory
		// allocation so the bytes are emitted one at a time.
		for i := 0; i < len(sVal); i++ {
			singleByte[0] = sVal[i]
			doWrite(w, singleByte)
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(sVal))
		doWrite(w, sVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtInt prints a formatted version of integer value v in the requested base.
// Base-10 values are left-padded with spaces and base-16 values with zeroes
// up to padLen.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		uVal     uint64
		negative bool
	)

	switch iVal := v.(type) {
	case uint8:
		uVal = uint64(iVal)
	case uint16:
		uVal = uint64(iVal)
	case uint32:
		uVal = uint64(iVal)
	case uint64:
		uVal = iVal
	case uint:
		uVal = uint64(iVal)
	case uintptr:
		uVal = uint64(iVal)
	case int8:
		uVal, negative = abs(int64(iVal))
	case int16:
		uVal, negative = abs(int64(iVal))
	case int32:
		uVal, negative = abs(int64(iVal))
	case int64:
		uVal, negative = abs(iVal)
	case int:
		uVal, negative = abs(int64(iVal))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	digitCount := 0
	for {
		digit := byte(uVal % uint64(base))
		if digit < 10 {
			digit += '0'
		} else {
			digit += 'a' - 10
		}
		numFmtBuf[len(numFmtBuf)-1-digitCount] = digit
		digitCount++

		uVal /= uint64(base)
		if uVal == 0 {
			break
		}
	}

	padCh := byte(' ')
	if base == 16 {
		padCh = '0'
	}
	if negative {
		singleByte[0] = '-'
		doWrite(w, singleByte)
	}
	fmtRepeat(w, padCh, padLen-digitCount)
	doWrite(w, numFmtBuf[len(numFmtBuf)-digitCount:])
}

// fmtRepeat writes ch to w count times.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for i := 0; i < count; i++ {
		singleByte[0] = ch
		doWrite(w, singleByte)
	}
}

// abs returns the magnitude of v and whether it was negative.
func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}
