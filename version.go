package relay

const Version = "0.1.0"
