package model

// DomainOption is one candidate domain of a managed site
type DomainOption struct {
	Domain          string `json:"domain"`
	IsSelected      bool   `json:"is_selected"`
	IsPrimaryDomain bool   `json:"is_primary_domain"`
	IsChanged       bool   `json:"is_changed"`
}

// SetSelected updates the selection flag and marks the option dirty on change
func (o *DomainOption) SetSelected(selected bool) {
	if o.IsSelected != selected {
		o.IsSelected = selected
		o.IsChanged = true
	}
}

// SetPrimary updates the primary flag and marks the option dirty on change
func (o *DomainOption) SetPrimary(primary bool) {
	if o.IsPrimaryDomain != primary {
		o.IsPrimaryDomain = primary
		o.IsChanged = true
	}
}

func (o *DomainOption) Clone() *DomainOption {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}
