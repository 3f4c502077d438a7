package models

// Department is a routing destination for a transfer
type Department string

const (
	DepartmentNone    Department = ""
	DepartmentSales   Department = "sales"
	DepartmentSupport Department = "support"
)

func (d Department) String() string {
	if d == DepartmentNone {
		return "none"
	}
	return string(d)
}

// Other returns the opposite department, or none
func (d Department) Other() Department {
	switch d {
	case DepartmentSales:
		return DepartmentSupport
	case DepartmentSupport:
		return DepartmentSales
	}
	return DepartmentNone
}
