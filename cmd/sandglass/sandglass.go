package sandglass

const Version = "0.1.0"
