package expr

// Truth is the three-valued logic result of a predicate. Unknown arises
// whenever a comparison touches NULL.
type Truth int

const (
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

// TruthOf converts a Go bool into a definite truth value.
func TruthOf(b bool) Truth {
	if b {
		return True
	}
	return False
}

// And combines two truth values using Kleene conjunction.
func And(left, right Truth) Truth {
	if left == False || right == False {
		return False
	}
	if left == True && right == True {
		return True
	}
	return Unknown
}

// Or combines two truth values using Kleene disjunction.
func Or(left, right Truth) Truth {
	if left == True || right == True {
		return True
	}
	if left == False && right == False {
		return False
	}
	return Unknown
}

// Not negates a truth value; Unknown stays Unknown.
func Not(value Truth) Truth {
	switch value {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}
