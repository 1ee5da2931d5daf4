package model

// CertificateFilter narrows certificate listings. Zero values mean "any".
type CertificateFilter struct {
	OwnerUserID string
	Status      string
	Domain      string
	Page        int
	Limit       int
}

func (f CertificateFilter) Normalized() CertificateFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 500 {
		f.Limit = 50
	}
	return f
}
