package version

// Version is the build version reported in the HTTP version header and the
// OTel service resource. Overridable via -ldflags "-X ...".
var Version = "0.2.0"
