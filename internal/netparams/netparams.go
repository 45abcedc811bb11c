// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netparams generates the randomized-but-bounded TCP/IP
// parameter string published to /mw/<id>/sockopts after an instance's
// address settles (§4.D), a direct port of generate_sys_net_opts.
package netparams

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// congestionAlgorithms are the only values §4.D permits.
var congestionAlgorithms = []string{"reno", "newreno", "cubic"}

// Generate emits a space-separated string of key:hexvalue pairs: the
// send/recv buffer autotune flag, initial/increment/max buffer sizes
// (bufmax >= bufspace always holds), initial congestion windows,
// delayed-ACK tick count, and a congestion-control algorithm name.
func Generate() string {
	var params []string

	for _, prefix := range []string{"send", "recv"} {
		bufauto := rand.IntN(2)
		params = append(params, fmt.Sprintf("%sbuf_auto:%x", prefix, bufauto))

		bufspace := boundedHex(0x1000, 0x40001, 0x1000)
		params = append(params, fmt.Sprintf("%sspace:%x", prefix, bufspace))

		bufinc := boundedHex(bufspace/4, bufspace/2, 0x800)
		params = append(params, fmt.Sprintf("%sbuf_inc:%x", prefix, bufinc))

		bufmax := boundedHex(bufspace, bufspace*4, 0x1000)
		params = append(params, fmt.Sprintf("%sbuf_max:%x", prefix, bufmax))

		if bufmax < bufspace {
			panic("netparams: bufmax < bufspace, programmer error")
		}
	}

	params = append(params, fmt.Sprintf("init_win:%x", 2+rand.IntN(5)))
	params = append(params, fmt.Sprintf("init_win_local:%x", 2+rand.IntN(5)))
	params = append(params, fmt.Sprintf("delack_ticks:%x", 10+rand.IntN(31)))
	params = append(params, fmt.Sprintf("congctl:%s", congestionAlgorithms[rand.IntN(len(congestionAlgorithms))]))

	return strings.Join(params, " ")
}

// boundedHex picks a uniform value in [lo, hi) quantized to step,
// mirroring the Python xrange(lo, hi, step) choice. Degenerates to lo
// when the range is empty or inverted.
func boundedHex(lo, hi, step int) int {
	if step <= 0 {
		step = 1
	}
	if hi <= lo {
		return lo
	}
	n := (hi - lo + step - 1) / step
	if n <= 1 {
		return lo
	}
	return lo + rand.IntN(n)*step
}
