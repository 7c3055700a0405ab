package identity

// DeviceRegistration describes a network access device to register.
type DeviceRegistration struct {
	SerialNumber string
	MAC          string
	IPAddress    string
	Name         string
}

// NAD is the identity service's record of a registered network access device.
type NAD struct {
	Name         string `json:"name"`
	SerialNumber string `json:"serialNumber,omitempty"`
	MAC          string `json:"mac,omitempty"`
	IPAddress    string `json:"ipAddress,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
}

type nadAddRequest struct {
	OrgID        string `json:"orgID"`
	Vendor       string `json:"vendor"`
	SerialNumber string `json:"serialNumber"`
	MAC          string `json:"mac"`
	IPAddress    string `json:"ipAddress"`
	Name         string `json:"name"`
}

type nadListRequest struct {
	OrgID string `json:"orgID"`
}

type nadListResponse struct {
	Data struct {
		NADs []NAD `json:"nads"`
	} `json:"data"`
}

type caGetResponse struct {
	Data struct {
		Cert string `json:"cert"`
	} `json:"data"`
	Error *serviceError `json:"error,omitempty"`
}

type csrSignRequest struct {
	CSR   string `json:"csr"`
	OrgID string `json:"orgID"`
}

type csrSignResponse struct {
	Data struct {
		X509Certificate string `json:"x509Certificate"`
	} `json:"data"`
	Error *serviceError `json:"error,omitempty"`
}
