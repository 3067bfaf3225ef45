package bcd

// Arithmetic operates in place: the receiver is the left operand and
// receives the result. Both operands must have the same width. On error the
// receiver is left unchanged.

// Add sets d = d + o.
func (d *Decimal) Add(o *Decimal) error {
	if d.digits != o.digits {
		return ErrWidth
	}
	return d.addSigned(o.magnitude(), o.IsNegative())
}

// Sub sets d = d - o.
func (d *Decimal) Sub(o *Decimal) error {
	if d.digits != o.digits {
		return ErrWidth
	}
	return d.addSigned(o.magnitude(), !o.IsNegative())
}

func (d *Decimal) addSigned(om []int, oneg bool) error {
	dm := d.magnitude()
	dneg := d.IsNegative()

	if dneg == oneg {
		sum, carry := addMag(dm, om)
		if carry != 0 {
			return ErrOverflow
		}
		d.setMagnitude(sum)
		d.setSign(dneg && !isZeroMag(sum))
		return nil
	}

	// Opposite signs: subtract the smaller magnitude from the larger one.
	if cmpMag(dm, om) >= 0 {
		diff := subMag(dm, om)
		d.setMagnitude(diff)
		d.setSign(dneg && !isZeroMag(diff))
		return nil
	}
	diff := subMag(om, dm)
	d.setMagnitude(diff)
	d.setSign(oneg && !isZeroMag(diff))
	return nil
}

// Mul sets d = d * o.
func (d *Decimal) Mul(o *Decimal) error {
	if d.digits != o.digits {
		return ErrWidth
	}
	n := d.digits
	a, b := d.magnitude(), o.magnitude()
	prod := make([]int, 2*n)
	for i := n - 1; i >= 0; i-- {
		if a[i] == 0 {
			continue
		}
		carry := 0
		for j := n - 1; j >= 0; j-- {
			k := i + j + 1
			v := prod[k] + a[i]*b[j] + carry
			prod[k] = v % 10
			carry = v / 10
		}
		prod[i] += carry
	}
	if !isZeroMag(prod[:n]) {
		return ErrOverflow
	}
	res := prod[n:]
	d.setMagnitude(res)
	d.setSign(d.IsNegative() != o.IsNegative() && !isZeroMag(res))
	return nil
}

// Div sets d = d / o, truncating toward zero.
func (d *Decimal) Div(o *Decimal) error {
	if d.digits != o.digits {
		return ErrWidth
	}
	if o.IsZero() {
		return ErrDivisionByZero
	}
	q, _ := divMag(d.magnitude(), o.magnitude())
	neg := d.IsNegative() != o.IsNegative()
	d.setMagnitude(q)
	d.setSign(neg && !isZeroMag(q))
	return nil
}

// Mod sets d to the remainder of d / o. The remainder takes the sign of d.
func (d *Decimal) Mod(o *Decimal) error {
	if d.digits != o.digits {
		return ErrWidth
	}
	if o.IsZero() {
		return ErrDivisionByZero
	}
	_, r := divMag(d.magnitude(), o.magnitude())
	neg := d.IsNegative()
	d.setMagnitude(r)
	d.setSign(neg && !isZeroMag(r))
	return nil
}

// Cmp compares d and o numerically and returns -1, 0 or +1.
func (d *Decimal) Cmp(o *Decimal) int {
	dz, oz := d.IsZero(), o.IsZero()
	dneg := d.IsNegative() && !dz
	oneg := o.IsNegative() && !oz
	switch {
	case dneg && !oneg:
		return -1
	case !dneg && oneg:
		return 1
	}
	c := cmpMag(padMag(d.magnitude(), o.digits), padMag(o.magnitude(), d.digits))
	if dneg {
		return -c
	}
	return c
}

func padMag(m []int, width int) []int {
	if len(m) >= width {
		return m
	}
	out := make([]int, width)
	copy(out[width-len(m):], m)
	return out
}

func isZeroMag(m []int) bool {
	for _, v := range m {
		if v != 0 {
			return false
		}
	}
	return true
}

func cmpMag(a, b []int) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func addMag(a, b []int) ([]int, int) {
	out := make([]int, len(a))
	carry := 0
	for i := len(a) - 1; i >= 0; i-- {
		v := a[i] + b[i] + carry
		out[i] = v % 10
		carry = v / 10
	}
	return out, carry
}

// subMag returns a - b for a >= b.
func subMag(a, b []int) []int {
	out := make([]int, len(a))
	borrow := 0
	for i := len(a) - 1; i >= 0; i-- {
		v := a[i] - b[i] - borrow
		if v < 0 {
			v += 10
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = v
	}
	return out
}

// divMag performs schoolbook long division of equal-width magnitudes.
func divMag(a, b []int) (q, r []int) {
	n := len(a)
	// One extra digit of headroom: r*10 can exceed n digits before the
	// subtraction brings it back below b.
	bp := padMag(b, n+1)
	q = make([]int, n)
	r = make([]int, n+1)
	for i := 0; i < n; i++ {
		copy(r, r[1:])
		r[n] = a[i]
		for cmpMag(r, bp) >= 0 {
			r = subMag(r, bp)
			q[i]++
		}
	}
	return q, r[1:]
}
