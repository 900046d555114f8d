package options

import "github.com/google/gopacket/layers"

// Names of the built-in options used by the server.
const (
	Pad                   = "pad"
	SubnetMask            = "subnet-mask"
	Router                = "router"
	DomainNameServers     = "domain-name-servers"
	Hostname              = "hostname"
	DomainName            = "domain-name"
	BroadcastAddress      = "broadcast-address"
	NTPServers            = "ntp-servers"
	VendorSpecific        = "vendor-specific"
	RequestedIP           = "requested-ip"
	LeaseTime             = "lease-time"
	MessageType           = "message-type"
	ServerIdentifier      = "server-identifier"
	ParameterRequestList  = "parameter-request-list"
	MaxMessageSize        = "max-message-size"
	RenewalTime           = "renewal-time"
	RebindingTime         = "rebinding-time"
	VendorClassIdentifier = "vendor-class-identifier"
	ClientIdentifier      = "client-identifier"
	TFTPServer            = "tftp-server"
	TFTPFilename          = "tftp-filename"
	End                   = "end"
)

// Boot options gopacket has no constants for.
const (
	optTFTPServerName layers.DHCPOpt = 66
	optBootfileName   layers.DHCPOpt = 67
)

var builtins = []Definition{
	{layers.DHCPOptPad, Pad, CodecRaw},
	{layers.DHCPOptSubnetMask, SubnetMask, CodecIPv4},
	{layers.DHCPOptRouter, Router, CodecIPv4List},
	{layers.DHCPOptDNS, DomainNameServers, CodecIPv4List},
	{layers.DHCPOptHostname, Hostname, CodecString},
	{layers.DHCPOptDomainName, DomainName, CodecString},
	{layers.DHCPOptBroadcastAddr, BroadcastAddress, CodecIPv4},
	{layers.DHCPOptNTPServers, NTPServers, CodecIPv4List},
	{layers.DHCPOptVendorOption, VendorSpecific, CodecRaw},
	{layers.DHCPOptRequestIP, RequestedIP, CodecIPv4},
	{layers.DHCPOptLeaseTime, LeaseTime, CodecSeconds},
	{layers.DHCPOptMessageType, MessageType, CodecUint8},
	{layers.DHCPOptServerID, ServerIdentifier, CodecIPv4},
	{layers.DHCPOptParamsRequest, ParameterRequestList, CodecRaw},
	{layers.DHCPOptMaxMessageSize, MaxMessageSize, CodecUint16},
	{layers.DHCPOptT1, RenewalTime, CodecSeconds},
	{layers.DHCPOptT2, RebindingTime, CodecSeconds},
	{layers.DHCPOptClassID, VendorClassIdentifier, CodecString},
	{layers.DHCPOptClientID, ClientIdentifier, CodecRaw},
	{optTFTPServerName, TFTPServer, CodecString},
	{optBootfileName, TFTPFilename, CodecString},
	{layers.DHCPOptEnd, End, CodecRaw},
}
