package domain

// Capability describes what a distribution point can do
type Capability int

const (
	CapabilityRead Capability = 1 << iota
	CapabilityWrite
	CapabilityReadWrite = CapabilityRead | CapabilityWrite
)

// CanRead reports whether files can be listed and fetched
func (c Capability) CanRead() bool {
	return c&CapabilityRead != 0
}

// CanWrite reports whether files can be transferred into or deleted
func (c Capability) CanWrite() bool {
	return c&CapabilityWrite != 0
}

// String returns the string representation of the capability
func (c Capability) String() string {
	switch c {
	case CapabilityRead:
		return "read"
	case CapabilityWrite:
		return "write"
	case CapabilityReadWrite:
		return "read-write"
	}
	return "none"
}

// DPType identifies the distribution point backend
type DPType string

const (
	DPTypeFolder    DPType = "folder"
	DPTypeFileShare DPType = "fileshare"
	DPTypeJCDS      DPType = "jcds"
	DPTypeCloud     DPType = "cloud"
	DPTypeS3        DPType = "s3"
)

// IsValid checks if the type is a known value
func (t DPType) IsValid() bool {
	switch t {
	case DPTypeFolder, DPTypeFileShare, DPTypeJCDS, DPTypeCloud, DPTypeS3:
		return true
	}
	return false
}

// NeedsServer reports whether the backend is addressed through a package server
func (t DPType) NeedsServer() bool {
	return t == DPTypeJCDS || t == DPTypeCloud
}

// AuthMethod selects how a server bearer token is obtained
type AuthMethod string

const (
	AuthClientCredentials AuthMethod = "client_credentials"
	AuthBasic             AuthMethod = "basic"
)

// APIFlavor selects the package-metadata API
type APIFlavor string

const (
	APIAuto    APIFlavor = "auto"
	APIClassic APIFlavor = "classic"
	APIJSON    APIFlavor = "json"
)

// ServerConfig describes a package server
type ServerConfig struct {
	// Name is the unique identifier
	Name string `mapstructure:"name"`

	// URL is the server base URL
	URL string `mapstructure:"url"`

	// Auth selects client credentials or basic auth
	Auth AuthMethod `mapstructure:"auth"`

	// ClientID for client credentials, or the username for basic auth
	ClientID string `mapstructure:"client_id"`

	// Secret is optional; when empty it is read from the secret store
	Secret string `mapstructure:"secret"`

	// API forces the package-metadata flavor
	API APIFlavor `mapstructure:"api"`
}

// DistributionPointConfig describes one configured distribution point
type DistributionPointConfig struct {
	// Name is the unique identifier
	Name string `mapstructure:"name"`

	// Type identifies the backend
	Type DPType `mapstructure:"type"`

	// ReadOnly drops the write capability
	ReadOnly bool `mapstructure:"read_only"`

	// Path is the folder root (folder)
	Path string `mapstructure:"path"`

	// HashOnList computes checksums while listing (folder, fileshare)
	HashOnList bool `mapstructure:"hash_on_list"`

	// Address, ShareName, Username, Password and MountPath describe a file share
	Address   string `mapstructure:"address"`
	ShareName string `mapstructure:"share"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	MountPath string `mapstructure:"mount_path"`

	// Server references a ServerConfig (jcds, cloud)
	Server string `mapstructure:"server"`

	// Bucket, Region, Prefix, AccessKeyID, SecretKey and Endpoint describe an S3 bucket
	Bucket      string `mapstructure:"bucket"`
	Region      string `mapstructure:"region"`
	Prefix      string `mapstructure:"prefix"`
	AccessKeyID string `mapstructure:"access_key_id"`
	SecretKey   string `mapstructure:"secret_key"`
	Endpoint    string `mapstructure:"endpoint"`
}

// Capability returns the configured capability
func (c DistributionPointConfig) Capability() Capability {
	if c.ReadOnly {
		return CapabilityRead
	}
	return CapabilityReadWrite
}

// Validate checks the type-specific required fields
func (c DistributionPointConfig) Validate() error {
	if c.Name == "" || !c.Type.IsValid() {
		return ErrConfigInvalid
	}
	switch c.Type {
	case DPTypeFolder:
		if c.Path == "" {
			return ErrConfigInvalid
		}
	case DPTypeFileShare:
		// address and share are checked at prepare time so that the typed
		// MountError reaches the caller
	case DPTypeJCDS, DPTypeCloud:
		if c.Server == "" {
			return ErrConfigInvalid
		}
	case DPTypeS3:
		if c.Bucket == "" || c.Region == "" {
			return ErrConfigInvalid
		}
	}
	return nil
}
